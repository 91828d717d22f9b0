package slots

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeRendersMatchingSessions(t *testing.T) {
	t.Parallel()

	centers := []Center{
		{
			Name:    "PHC Dwarka",
			Address: "Sector 10",
			Sessions: []Session{
				{Date: "10-05-2021", AvailableCapacity: 5, MinAgeLimit: 18},
				{Date: "11-05-2021", AvailableCapacity: 9, MinAgeLimit: 45},
				{Date: "12-05-2021", AvailableCapacity: 2, MinAgeLimit: 18},
			},
		},
		{
			Name:     "Empty Hall",
			Address:  "Sector 12",
			Sessions: []Session{{Date: "10-05-2021", AvailableCapacity: 0, MinAgeLimit: 18}},
		},
		{
			Name:     "Civil Hospital",
			Address:  "Palam",
			Sessions: []Session{{Date: "13-05-2021", AvailableCapacity: 30, MinAgeLimit: 18}},
		},
	}

	got := Summarize(centers)

	want := "Sector 10 -> PHC Dwarka\n" +
		"\t10-05-2021, Slots: *5*, Age: 18\n" +
		"\t12-05-2021, Slots: *2*, Age: 18\n" +
		"\n" +
		"Palam -> Civil Hospital\n" +
		"\t13-05-2021, Slots: *30*, Age: 18\n" +
		"\n"
	assert.Equal(t, want, got.Text)
	assert.Equal(t, 3, got.Matches)
	assert.False(t, got.Empty())
}

func TestSummarizeExcludesIneligibleSessions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		session Session
	}{
		{name: "capacity one", session: Session{Date: "10-05-2021", AvailableCapacity: 1, MinAgeLimit: 18}},
		{name: "capacity zero", session: Session{Date: "10-05-2021", AvailableCapacity: 0, MinAgeLimit: 18}},
		{name: "age 45", session: Session{Date: "10-05-2021", AvailableCapacity: 50, MinAgeLimit: 45}},
		{name: "age 40", session: Session{Date: "10-05-2021", AvailableCapacity: 50, MinAgeLimit: 40}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Summarize([]Center{{Name: "A", Address: "B", Sessions: []Session{tt.session}}})
			assert.True(t, got.Empty())
			assert.Zero(t, got.Matches)
		})
	}
}

func TestSummarizeEmptyIffNoEligibleSession(t *testing.T) {
	t.Parallel()

	capacities := []int{0, 1, 2, 7}
	ages := []int{18, 40, 45}

	// Every center layout built from one or two sessions over the grid above.
	for _, c1 := range capacities {
		for _, a1 := range ages {
			for _, c2 := range capacities {
				for _, a2 := range ages {
					sessions := []Session{
						{Date: "01-01-2021", AvailableCapacity: c1, MinAgeLimit: a1},
						{Date: "02-01-2021", AvailableCapacity: c2, MinAgeLimit: a2},
					}
					anyEligible := Eligible(sessions[0]) || Eligible(sessions[1])
					got := Summarize([]Center{{Name: "n", Address: "a", Sessions: sessions}})
					require.Equal(t, !anyEligible, got.Empty(), "sessions=%+v", sessions)
				}
			}
		}
	}
}

func TestSummarizeNoCenters(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Summary{}, Summarize(nil))
	assert.Equal(t, Summary{}, Summarize([]Center{{Name: "x", Address: "y"}}))
}

func TestSummarizeEscapesMarkdown(t *testing.T) {
	t.Parallel()

	got := Summarize([]Center{{
		Name:     "UPHC_Block*A",
		Address:  "[Ward 4]",
		Sessions: []Session{{Date: "10-05-2021", AvailableCapacity: 3, MinAgeLimit: 18}},
	}})
	first := strings.SplitN(got.Text, "\n", 2)[0]
	assert.Equal(t, `\[Ward 4] -> UPHC\_Block\*A`, first)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]Kind{
		"pincode":       KindPincode,
		"PIN":           KindPincode,
		"district":      KindDistrict,
		" District_ID ": KindDistrict,
	} {
		got, err := ParseKind(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseKind("state")
	assert.Error(t, err)
}
