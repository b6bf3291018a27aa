package proto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase(" repairing ")
	require.NoError(t, err)
	assert.Equal(t, PhaseRepairing, p)

	_, err = ParsePhase("compiling")
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	for _, p := range Phases() {
		assert.Equal(t, p == PhaseDone || p == PhaseFailed, p.Terminal(), p.String())
	}
}

func TestTimeoutResult(t *testing.T) {
	r := TimeoutResult(3*time.Second, "partial")
	assert.False(t, r.Passed)
	assert.Equal(t, []string{CaseTimeout}, r.FailingIDs())
	assert.Contains(t, r.FailingCases[0].Message, "3s")
}

func TestSummary(t *testing.T) {
	r := Failing("", FailingCase{ID: "a"}, FailingCase{ID: "b"})
	r.Duration = 1500 * time.Millisecond
	assert.Equal(t, "2 failing in 1.5s", r.Summary())
	assert.Equal(t, "passed in 0s", Passing("").Summary())
}
