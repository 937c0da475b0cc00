package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Bars(t *testing.T) {
	in := `time,open,high,low,close,volume
2024-01-02T09:00:00Z,100,105,99,104,1000
2024-01-02 09:01:00,104,106,103,105.5,800
`
	events, err := ReadCSV(strings.NewReader(in), CSVOptions{Instrument: "ABC", Timeframe: domain.TimeframeM1})
	require.NoError(t, err)
	require.Len(t, events, 2)

	ev := events[1]
	assert.Equal(t, "ABC", ev.Instrument)
	assert.Equal(t, uint64(2), ev.Seq)
	assert.Equal(t, domain.TimeframeM1, ev.Timeframe)
	assert.True(t, ev.Time.Equal(t0.Add(time.Minute)))
	assert.True(t, ev.Close.Equal(decimal.RequireFromString("105.5")))
	assert.False(t, ev.Bid.Valid)
}

func TestReadCSV_CloseOnlyRowsAndQuotes(t *testing.T) {
	in := `instrument,time,seq,open,high,low,close,volume,bid,ask
XYZ,1704186000,7,,,,50,,49.9,50.1
XYZ,1704186060000,8,,,,51,10,,
`
	events, err := ReadCSV(strings.NewReader(in), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "XYZ", first.Instrument)
	assert.Equal(t, uint64(7), first.Seq)
	assert.True(t, first.Time.Equal(t0))
	assert.True(t, first.Open.Equal(first.Close))
	assert.True(t, first.Low.Equal(decimal.NewFromInt(50)))
	require.True(t, first.Ask.Valid)
	assert.Equal(t, "50.1", first.Ask.Decimal.String())

	assert.True(t, events[1].Time.Equal(t0.Add(time.Minute)))
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no instrument", "time,close\n2024-01-02,10\n", "instrument"},
		{"bad time", "instrument,time,close\nA,yesterday,10\n", "time"},
		{"bad number", "instrument,time,close\nA,2024-01-02,ten\n", "close"},
		{"inconsistent range", "instrument,time,open,high,low,close\nA,2024-01-02,10,9,8,10\n", "open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in), CSVOptions{})
			require.Error(t, err)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Field)
		})
	}
}

func TestOpenCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte("time,close\n2024-01-02,10\n2024-01-03,11\n"), 0o644))

	src, err := OpenCSV(path, CSVOptions{Instrument: "A", Timeframe: domain.TimeframeD1})
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	_, err = OpenCSV(filepath.Join(t.TempDir(), "missing.csv"), CSVOptions{})
	assert.Error(t, err)
}

func TestParseTime_Location(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	got, err := parseTime("2024-01-02 18:00:00", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(t0))
	assert.Equal(t, time.UTC, got.Location())
}
