package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monview/internal/domain"
	"monview/internal/logger"
	"monview/internal/monitoring"
)

func nopLogger() logger.Logger { return logger.Noop() }

func TestDialogBroker(t *testing.T) {
	n := &recordingNotifier{}
	b := NewDialogBroker(n)

	var answers []bool
	b.For("m1").Open(domain.Dialog{Kind: domain.DialogYesNo, Title: "first", OnResult: func(ok bool) { answers = append(answers, ok) }})
	b.For("m2").Open(domain.Dialog{Kind: domain.DialogOK, Title: "other"})
	b.For("m1").Open(domain.Dialog{Kind: domain.DialogOKCancel, Title: "second", OnResult: func(ok bool) { answers = append(answers, ok) }})

	pending := b.Pending("m1")
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Title)
	assert.Equal(t, "second", pending[1].Title)
	assert.NotEqual(t, pending[0].ID, pending[1].ID)
	assert.Equal(t, 3, n.count(MsgDialog))

	machine, err := b.Answer(pending[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, "m1", machine)
	assert.Equal(t, []bool{true}, answers)

	_, err = b.Answer(pending[0].ID, true)
	assert.ErrorIs(t, err, ErrUnknownDialog)

	b.Dismiss("m1")
	assert.Equal(t, []bool{true, false}, answers)
	assert.Empty(t, b.Pending("m1"))
	assert.Len(t, b.Pending("m2"), 1)
	assert.Equal(t, 2, n.count(MsgDialogClosed))
}

func TestRemotePresentation(t *testing.T) {
	n := &recordingNotifier{}
	p := NewRemotePresentation("m1", n)

	m := domain.NewMachine("m1", "web", "10.0.0.1")
	graphs := domain.NewCollection[*domain.Graph]()
	g := domain.NewGraph("CPU", 0, domain.NewDatasource(&domain.Metric{ID: "cpu"}, m))
	graphs.Add(g)

	p.Open(graphs, monitoring.PresentationConfig{CanModify: true, TimeWindow: "10m"})
	assert.True(t, p.IsOpen())
	assert.True(t, p.IsStreaming())

	p.Stop()
	assert.False(t, p.IsStreaming())
	p.ChangeTimeWindow("1h")
	assert.Equal(t, "1h", p.State().Config.TimeWindow)

	calls := 0
	p.OnFirstData(func() { calls++ })
	p.DataReceived()
	p.DataReceived()
	assert.Equal(t, 1, calls)

	p.Close()
	assert.False(t, p.IsOpen())
	assert.False(t, p.IsStreaming())
	assert.Equal(t, 4, n.count(MsgPresentation))

	n.mu.Lock()
	open := n.msgs[0].data.(map[string]any)
	n.mu.Unlock()
	assert.Equal(t, "open", open["action"])
	states := open["graphs"].([]GraphState)
	require.Len(t, states, 1)
	assert.Equal(t, g.Key(), states[0].Key)
	assert.Equal(t, "cpu", states[0].Metric)
}

func TestRemoteSelector(t *testing.T) {
	n := &recordingNotifier{}
	s := NewRemoteSelector(n, func(m *domain.Machine) []*domain.Metric {
		return []*domain.Metric{{ID: "nginx"}}
	})
	s.Open(domain.NewMachine("m1", "web", "10.0.0.1"))

	require.Equal(t, 1, n.count(MsgSelectMetric))
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, "m1", n.msgs[0].machine)
	assert.Len(t, n.msgs[0].data.(map[string]any)["metrics"], 1)
}
