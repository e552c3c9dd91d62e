package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRenderGameCallSeries(t *testing.T) {
	reg := New()
	reg.ObserveGameCall("advance", "", 20*time.Millisecond)
	reg.ObserveGameCall("advance", "protocol", 40*time.Millisecond)
	reg.ObserveGameCall("start", "", time.Second)
	reg.SetCurrentStep(3)

	out := reg.RenderPrometheus()
	for _, want := range []string{
		`arviz_agent_game_calls_total{op="advance"} 2`,
		`arviz_agent_game_calls_total{op="start"} 1`,
		`arviz_agent_game_failures_total{op="advance",kind="protocol"} 1`,
		`arviz_agent_game_call_duration_seconds_bucket{op="advance",le="0.025"} 1`,
		`arviz_agent_game_call_duration_seconds_bucket{op="advance",le="0.05"} 2`,
		`arviz_agent_game_call_duration_seconds_count{op="advance"} 2`,
		`arviz_agent_session_current_step 3`,
		`arviz_agent_request_duration_seconds_sum 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if reg.GameFailures("advance", "protocol") != 1 {
		t.Fatalf("expected one protocol failure")
	}
}

func TestRequestHistogramIsCumulative(t *testing.T) {
	reg := New()
	reg.ObserveRequestDuration(3 * time.Millisecond)
	reg.ObserveRequestDuration(time.Minute)

	out := reg.RenderPrometheus()
	if !strings.Contains(out, `arviz_agent_request_duration_seconds_bucket{le="0.005"} 1`) {
		t.Fatalf("expected first bucket to hold one sample:\n%s", out)
	}
	if !strings.Contains(out, `arviz_agent_request_duration_seconds_bucket{le="30"} 1`) {
		t.Fatalf("expected largest finite bucket to stay at one:\n%s", out)
	}
	if !strings.Contains(out, `arviz_agent_request_duration_seconds_bucket{le="+Inf"} 2`) {
		t.Fatalf("expected +Inf to hold both samples:\n%s", out)
	}
}
