package results

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/lookup"
)

func success(phone, name, bank string) lookup.Outcome {
	return lookup.Outcome{
		Kind:     lookup.KindSuccess,
		Attempts: 1,
		Handle:   "@ybl",
		Record: &lookup.UpiRecord{
			PhoneNumber:       phone,
			UpiID:             phone + "@ybl",
			AccountHolderName: name,
			BankName:          bank,
			Handle:            "@ybl",
		},
	}
}

func item(phone string, seq int) input.WorkItem {
	return input.WorkItem{PhoneNumber: phone, SequenceIndex: seq}
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	// Completion order differs from input order
	require.NoError(t, s.Record(item("9000000003", 2), success("9000000003", "Meera Iyer", "HDFC Bank")))
	require.NoError(t, s.Record(item("9000000001", 0), success("9000000001", "Ravi Kumar", "State Bank of India")))
	require.NoError(t, s.Record(item("9000000004", 3), lookup.Outcome{Kind: lookup.KindNotFound, Reason: "no account"}))
	require.NoError(t, s.Record(item("9000000002", 1), success("9000000002", "Anil Shah", "HDFC Bank")))
	require.NoError(t, s.Record(item("9000000005", 4), lookup.Outcome{Kind: lookup.KindTransient, Reason: "503"}))
	require.NoError(t, s.Record(item("9000000006", 5), lookup.Cancelled("run cancelled")))
	return s
}

func TestRecordRejectsDuplicate(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Record(item("9876543210", 0), success("9876543210", "A", "B")))

	err := s.Record(item("9876543210", 0), lookup.Outcome{Kind: lookup.KindFatal})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateOutcome))

	e, ok := s.Get("9876543210")
	require.True(t, ok)
	assert.Equal(t, lookup.KindSuccess, e.Outcome.Kind, "first outcome is kept")
	assert.Equal(t, 1, s.Len())
}

func TestOrdering(t *testing.T) {
	s := seededStore(t)

	all := s.All()
	require.Len(t, all, 6)
	assert.Equal(t, "9000000003", all[0].PhoneNumber)
	assert.Equal(t, "9000000001", all[1].PhoneNumber)

	seq := s.BySequence()
	for i, e := range seq {
		assert.Equal(t, i, e.SequenceIndex)
	}
}

func TestByKindAndCounts(t *testing.T) {
	s := seededStore(t)

	assert.Len(t, s.ByKind(lookup.KindSuccess), 3)
	assert.Len(t, s.ByKind(lookup.KindNotFound, lookup.KindTransient), 2)
	assert.Empty(t, s.ByKind(lookup.KindFatal))

	c := s.Counts()
	assert.Equal(t, Counts{Total: 6, Success: 3, NotFound: 1, Transient: 1, Cancelled: 1}, c)
	assert.Equal(t, 2, c.Failures())
}

func TestGroupByBank(t *testing.T) {
	s := seededStore(t)

	groups := s.GroupByBank()
	require.Len(t, groups, 2)
	assert.Equal(t, "HDFC Bank", groups[0].Bank, "first success decides bank order")
	assert.Len(t, groups[0].Entries, 2)
	assert.Equal(t, "State Bank of India", groups[1].Bank)

	hdfc := s.ByBank("HDFC Bank")
	assert.Len(t, hdfc, 2)
	assert.Empty(t, s.ByBank("Axis Bank"))
}

func TestBankDistribution(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Record(item("1", 0), success("1", "a", "Axis Bank")))
	require.NoError(t, s.Record(item("2", 1), success("2", "b", "ICICI Bank")))
	require.NoError(t, s.Record(item("3", 2), success("3", "c", "ICICI Bank")))
	require.NoError(t, s.Record(item("4", 3), success("4", "d", "Kotak")))

	dist := s.BankDistribution()
	assert.Equal(t, []BankCount{
		{Bank: "ICICI Bank", Count: 2},
		{Bank: "Axis Bank", Count: 1},
		{Bank: "Kotak", Count: 1},
	}, dist)
}

func TestSearch(t *testing.T) {
	s := seededStore(t)

	tests := []struct {
		term string
		want int
	}{
		{"hdfc", 2},
		{"RAVI", 1},
		{"9000000004", 1},
		{"@ybl", 3},
		{"9000000", 6},
		{"", 6},
		{"nobody", 0},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Len(t, s.Search(tt.term), tt.want)
		})
	}
}

func TestReset(t *testing.T) {
	s := seededStore(t)
	s.Reset()

	assert.Zero(t, s.Len())
	assert.Empty(t, s.All())
	_, ok := s.Get("9000000001")
	assert.False(t, ok)
	require.NoError(t, s.Record(item("9000000001", 0), success("9000000001", "x", "y")))
}

func TestConcurrentRecordExactlyOnce(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	dupes := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				phone := fmt.Sprintf("90000%05d", i)
				if err := s.Record(item(phone, i), lookup.Outcome{Kind: lookup.KindNotFound}); err != nil {
					mu.Lock()
					dupes++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	assert.Equal(t, 7*50, dupes)
}
