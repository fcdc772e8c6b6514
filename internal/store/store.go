// Package store owns the Redis connection shared by every dashboard read and
// administrative action. It applies the key namespace, bounds every call with
// client-side timeouts and classifies transport failures as ErrStoreUnavailable.
//
// The *Store value is safe for concurrent use; pooling is delegated to the
// go-redis client.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPageSize is the number of items a paginated view asks for per page.
const DefaultPageSize = 20

var ErrStoreUnavailable = errors.New("store unavailable")

// UnavailableError carries the transport failure behind ErrStoreUnavailable.
type UnavailableError struct {
	Op   string
	Addr string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: can't connect to redis at %s: %v", e.Op, e.Addr, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

type Options struct {
	// Addr is either host:port or a redis:// URL.
	Addr         string
	Namespace    string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Store struct {
	client    *redis.Client
	addr      string
	namespace string
}

// Open builds the client without contacting Redis, so a dashboard can start
// (and render its degraded view) while the store is down.
func Open(opts Options) (*Store, error) {
	var ropts *redis.Options
	if strings.HasPrefix(opts.Addr, "redis://") || strings.HasPrefix(opts.Addr, "rediss://") {
		parsed, err := redis.ParseURL(opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{Addr: opts.Addr}
	}

	if opts.PoolSize > 0 {
		ropts.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		ropts.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		ropts.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		ropts.WriteTimeout = opts.WriteTimeout
	}

	return &Store{
		client:    redis.NewClient(ropts),
		addr:      ropts.Addr,
		namespace: strings.TrimSuffix(opts.Namespace, ":"),
	}, nil
}

// Client exposes the raw client to the packages that implement the job-queue
// primitives on top of the same connection.
func (s *Store) Client() redis.Cmdable { return s.client }

func (s *Store) Addr() string { return s.addr }

func (s *Store) Namespace() string { return s.namespace }

// Key prefixes name with the configured namespace.
func (s *Store) Key(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + ":" + name
}

// Wrap classifies err. redis.Nil is returned untouched and Redis protocol
// errors are annotated with op; anything else means the store could not be
// reached in time and becomes an *UnavailableError.
func (s *Store) Wrap(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return &UnavailableError{Op: op, Addr: s.addr, Err: err}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Wrap("ping", s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}
