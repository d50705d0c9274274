package obs

import (
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/scene-tracker/pkg/util/test"
)

func TestContextFinalizeIsTerminal(t *testing.T) {
	c := NewContext(nil, "scene1", "person", time.Now(), log.NewNopLogger())
	c.Enter(StageParse)
	c.Enter(StageBuffer)
	c.Enter(StageDispatch)
	c.Enter(StageTrack)
	c.Enter(StagePublish)
	c.Finalize()

	require.True(t, c.Terminated())
	require.True(t, c.Finalized())
	_, aborted := c.Aborted()
	require.False(t, aborted)
}

func TestContextAbortRecordsReasonAndStage(t *testing.T) {
	before, err := test.GetCounterValue(metricBatchesDropped.WithLabelValues("scene1", "person", "fell_behind", "buffer"))
	require.NoError(t, err)

	c := NewContext(nil, "scene1", "person", time.Now(), log.NewNopLogger())
	c.Enter(StageParse)
	c.Enter(StageBuffer)
	c.Abort(ReasonFellBehind)

	reason, aborted := c.Aborted()
	require.True(t, aborted)
	require.Equal(t, ReasonFellBehind, reason)
	require.False(t, c.Finalized())

	after, err := test.GetCounterValue(metricBatchesDropped.WithLabelValues("scene1", "person", "fell_behind", "buffer"))
	require.NoError(t, err)
	require.Equal(t, before+1, after)
}

func TestContextSecondTerminalTransitionIsIgnored(t *testing.T) {
	c := NewContext(nil, "scene1", "person", time.Now(), log.NewNopLogger())
	c.Enter(StagePublish)
	c.Finalize()
	c.Abort(ReasonShutdown)

	require.True(t, c.Finalized())
	_, aborted := c.Aborted()
	require.False(t, aborted)
}

func TestContextStageStampsAreOrdered(t *testing.T) {
	c := NewContext(nil, "scene1", "person", time.Now().Add(-time.Millisecond), log.NewNopLogger())
	c.Enter(StageParse)
	c.Enter(StageBuffer)

	require.True(t, c.Stamp(StageReceive).Before(c.Stamp(StageParse)))
	require.False(t, c.Stamp(StageParse).After(c.Stamp(StageBuffer)))
	require.True(t, c.Stamp(StageDispatch).IsZero())
	require.Equal(t, StageBuffer, c.Stage())
}

func TestContextTracePropagationRoundTrip(t *testing.T) {
	props := map[string]string{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	c := NewContext(props, "scene1", "person", time.Now(), log.NewNopLogger())

	out := map[string]string{}
	c.Inject(out)
	require.Contains(t, out["traceparent"], "4bf92f3577b34da6a3ce929d0e0e4736")
}

func TestContextGeneratesTraceWhenAbsent(t *testing.T) {
	c := NewContext(nil, "scene1", "person", time.Now(), log.NewNopLogger())

	out := map[string]string{}
	c.Inject(out)
	require.NotEmpty(t, out["traceparent"])
	require.NotContains(t, out["traceparent"], "00000000000000000000000000000000")
}

func TestContextEnterAfterTerminalIsNoop(t *testing.T) {
	c := NewContext(nil, "scene1", "person", time.Now(), log.NewNopLogger())
	c.Abort(ReasonParseError)
	c.Enter(StageBuffer)

	require.Equal(t, StageReceive, c.Stage())
	require.True(t, c.Stamp(StageBuffer).IsZero())
}
