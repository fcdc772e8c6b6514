package dashboard

// Pager describes where a page sits in a longer collection.
type Pager struct {
	Start int64 `json:"start"`
	Size  int64 `json:"size"`
	Total int64 `json:"total"`
	Shown int64 `json:"shown"`
}

func NewPager(start, size, total, shown int64) Pager {
	if start < 0 {
		start = 0
	}
	return Pager{Start: start, Size: size, Total: total, Shown: shown}
}

// First is the 1-based position of the first item shown.
func (p Pager) First() int64 {
	if p.Shown == 0 {
		return 0
	}
	return p.Start + 1
}

func (p Pager) Last() int64 { return p.Start + p.Shown }

func (p Pager) HasPrev() bool { return p.Start > 0 }

func (p Pager) PrevStart() int64 { return max(p.Start-p.Size, 0) }

func (p Pager) HasNext() bool { return p.Start+p.Size < p.Total }

func (p Pager) NextStart() int64 { return p.Start + p.Size }
