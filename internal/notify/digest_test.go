package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadmax/resqview/internal/failure"
	"github.com/nadmax/resqview/internal/summary"
)

type stubSource struct {
	records []*failure.Record
	err     error
}

func (s *stubSource) Count(context.Context) (int64, error) {
	return int64(len(s.records)), s.err
}

func (s *stubSource) All(_ context.Context, start, limit int64) ([]*failure.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return summary.Page(s.records, int(start), int(limit)), nil
}

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSender) Send(email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

var digestTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func sampleRecords() []*failure.Record {
	return []*failure.Record{
		{Queue: "A", Exception: "E1"},
		{Queue: "B", Exception: "E2"},
		{Queue: "A", Exception: "E1"},
		{Queue: "A", Exception: "E3"},
	}
}

func TestBuildDigest(t *testing.T) {
	agg := summary.NewAggregator(&stubSource{records: sampleRecords()})

	d, err := BuildDigest(context.Background(), agg, digestTime)
	require.NoError(t, err)

	assert.Equal(t, 4, d.Total)
	assert.Equal(t, []QueueDigest{
		{Queue: "A", Count: 3, Exceptions: []ExceptionCount{{"E1", 2}, {"E3", 1}}},
		{Queue: "B", Count: 1, Exceptions: []ExceptionCount{{"E2", 1}}},
	}, d.Queues)
}

func TestBuildDigest_Error(t *testing.T) {
	agg := summary.NewAggregator(&stubSource{err: errors.New("down")})

	_, err := BuildDigest(context.Background(), agg, digestTime)
	assert.Error(t, err)
}

func TestDigestText(t *testing.T) {
	agg := summary.NewAggregator(&stubSource{records: sampleRecords()})
	d, err := BuildDigest(context.Background(), agg, digestTime)
	require.NoError(t, err)

	assert.Equal(t, "[resqview] 4 failed jobs", d.Subject())
	assert.Equal(t,
		"4 failed jobs as of 2024/05/06 07:08:09 UTC\n"+
			"\nA: 3\n  E1: 2\n  E3: 1\n"+
			"\nB: 1\n  E2: 1\n",
		d.Text())
}

func TestMailerSend(t *testing.T) {
	sender := &fakeSender{status: 202}
	m := NewMailerWithSender(sender, "Resque", "ops@example.com", []string{"a@example.com", "b@example.com"}, nil)

	d := &Digest{Total: 1, Queues: []QueueDigest{{Queue: "A", Count: 1}}, GeneratedAt: digestTime}
	require.NoError(t, m.Send(d))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, d.Subject(), sender.sent[0].Subject)
	assert.Equal(t, "ops@example.com", sender.sent[0].From.Address)
	assert.Equal(t, "b@example.com", sender.sent[1].Personalizations[0].To[0].Address)
}

func TestMailerSend_EmptyDigest(t *testing.T) {
	sender := &fakeSender{status: 202}
	m := NewMailerWithSender(sender, "", "ops@example.com", []string{"a@example.com"}, nil)

	require.NoError(t, m.Send(&Digest{}))
	assert.Empty(t, sender.sent)
}

func TestMailerSend_NoRecipients(t *testing.T) {
	m := NewMailerWithSender(&fakeSender{}, "", "ops@example.com", nil, nil)
	assert.ErrorIs(t, m.Send(&Digest{Total: 1}), ErrNoRecipients)
}

func TestMailerSend_Errors(t *testing.T) {
	d := &Digest{Total: 1}

	m := NewMailerWithSender(&fakeSender{err: errors.New("timeout")}, "", "ops@example.com", []string{"a@example.com"}, nil)
	assert.Error(t, m.Send(d))

	m = NewMailerWithSender(&fakeSender{status: 401}, "", "ops@example.com", []string{"a@example.com"}, nil)
	err := m.Send(d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
