package emissions

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptySchedule    = errors.New("emissions: schedule requires at least one entry")
	ErrOffsetOrder      = errors.New("emissions: entry offsets must be strictly increasing")
	ErrFirstOffset      = errors.New("emissions: first entry must start at offset zero")
	ErrNegativeRate     = errors.New("emissions: rate per second cannot be negative")
	ErrRateRequired     = errors.New("emissions: rate per second must be set")
)

// Entry maps an elapsed-time offset (seconds since program start) to the
// per-second emission rate in effect from that offset onwards.
type Entry struct {
	StartOffset   uint64
	RatePerSecond *big.Int
}

// Schedule is an immutable lookup table from elapsed program time to a
// per-second reward rate. Once the table is exhausted emissions continue at
// the final tabulated rate; the program has no hard cutoff.
type Schedule struct {
	entries []Entry
}

// NewSchedule validates and freezes the provided entries. Offsets must be
// strictly increasing and the first entry must cover elapsed time zero so
// every lookup has a defined rate.
func NewSchedule(entries []Entry) (*Schedule, error) {
	if len(entries) == 0 {
		return nil, ErrEmptySchedule
	}
	frozen := make([]Entry, len(entries))
	for i, entry := range entries {
		if entry.RatePerSecond == nil {
			return nil, ErrRateRequired
		}
		if entry.RatePerSecond.Sign() < 0 {
			return nil, ErrNegativeRate
		}
		if i == 0 && entry.StartOffset != 0 {
			return nil, ErrFirstOffset
		}
		if i > 0 && entry.StartOffset <= entries[i-1].StartOffset {
			return nil, ErrOffsetOrder
		}
		frozen[i] = Entry{
			StartOffset:   entry.StartOffset,
			RatePerSecond: new(big.Int).Set(entry.RatePerSecond),
		}
	}
	return &Schedule{entries: frozen}, nil
}

// RateAt returns the rate for the greatest entry offset <= elapsed. Lookups
// beyond the last entry return the final rate.
func (s *Schedule) RateAt(elapsed uint64) *big.Int {
	if s == nil || len(s.entries) == 0 {
		return big.NewInt(0)
	}
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].StartOffset > elapsed
	})
	return new(big.Int).Set(s.entries[idx-1].RatePerSecond)
}

// Len reports the number of tabulated entries.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a deep copy of the tabulated entries for display surfaces.
func (s *Schedule) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	for i, entry := range s.entries {
		out[i] = Entry{
			StartOffset:   entry.StartOffset,
			RatePerSecond: new(big.Int).Set(entry.RatePerSecond),
		}
	}
	return out
}

// Split divides a nominal rate between the two distributor instances. The
// second share absorbs the integer remainder so the halves always sum back to
// the nominal rate with no rounding leakage.
func Split(rate *big.Int) (*big.Int, *big.Int) {
	if rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	half := new(big.Int).Quo(rate, big.NewInt(2))
	other := new(big.Int).Sub(rate, half)
	return half, other
}

// DistributorShare selects one side of the split for a distributor instance.
type DistributorShare int

const (
	// ShareFloor receives the rounded-down half of the nominal rate.
	ShareFloor DistributorShare = iota
	// ShareRemainder receives the other half including the integer
	// remainder.
	ShareRemainder
)

// ShareAt returns this distributor's portion of the nominal rate at the
// given elapsed time.
func (s *Schedule) ShareAt(elapsed uint64, share DistributorShare) *big.Int {
	floor, remainder := Split(s.RateAt(elapsed))
	if share == ShareRemainder {
		return remainder
	}
	return floor
}

// EmissionBetween integrates the distributor's share of the emission rate
// over the elapsed-time window [start, end). Windows spanning a table
// boundary are summed segment by segment so each second is paid at the rate
// tabulated for it. Splitting happens at the per-second rate, so the two
// distributor shares of any window always sum to the nominal emission.
func (s *Schedule) EmissionBetween(start, end uint64, share DistributorShare) *big.Int {
	total := big.NewInt(0)
	if s == nil || end <= start {
		return total
	}
	cursor := start
	for cursor < end {
		segmentEnd := end
		idx := sort.Search(len(s.entries), func(i int) bool {
			return s.entries[i].StartOffset > cursor
		})
		if idx < len(s.entries) && s.entries[idx].StartOffset < segmentEnd {
			segmentEnd = s.entries[idx].StartOffset
		}
		rate := s.ShareAt(cursor, share)
		duration := new(big.Int).SetUint64(segmentEnd - cursor)
		total.Add(total, rate.Mul(rate, duration))
		cursor = segmentEnd
	}
	return total
}

type scheduleFile struct {
	Entries []struct {
		StartOffset   uint64 `yaml:"startOffset"`
		RatePerSecond string `yaml:"ratePerSecond"`
	} `yaml:"entries"`
}

// LoadFile reads a YAML emission table from disk. Rates are expressed as
// decimal wei strings so multi-year tables survive 64-bit overflow.
func LoadFile(path string) (*Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("emissions: read schedule: %w", err)
	}
	var file scheduleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("emissions: decode schedule: %w", err)
	}
	entries := make([]Entry, 0, len(file.Entries))
	for _, entry := range file.Entries {
		rate, ok := new(big.Int).SetString(entry.RatePerSecond, 10)
		if !ok {
			return nil, fmt.Errorf("emissions: invalid rate %q at offset %d", entry.RatePerSecond, entry.StartOffset)
		}
		entries = append(entries, Entry{StartOffset: entry.StartOffset, RatePerSecond: rate})
	}
	return NewSchedule(entries)
}
