package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occopus/infra-processor/internal/node"
	"github.com/occopus/infra-processor/internal/processor"
)

func TestBatchCodecRoundTrip(t *testing.T) {
	cmds := []processor.Command{
		processor.NewCreateInfrastructure("env-1"),
		processor.NewCreateNode(&node.Description{
			Type:    "worker",
			Name:    "n1",
			InfraID: "env-1",
			Attributes: map[string]any{
				"role": "frontend",
			},
		}),
		processor.NewDropNode(&node.Instance{
			NodeID:     "node-1",
			InfraID:    "env-1",
			InstanceID: "i-1",
		}),
	}

	data, err := encodeBatch(cmds)
	require.NoError(t, err)

	decoded, err := decodeBatch(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	assert.Equal(t, processor.KindCreateInfrastructure, decoded[0].Kind)
	assert.Equal(t, "env-1", decoded[0].InfraID)
	assert.WithinDuration(t, cmds[0].Timestamp, decoded[0].Timestamp, time.Millisecond)

	require.NotNil(t, decoded[1].Description)
	assert.Equal(t, "n1", decoded[1].Description.Name)
	assert.Equal(t, "frontend", decoded[1].Description.Attributes["role"])

	require.NotNil(t, decoded[2].Instance)
	assert.Equal(t, "i-1", decoded[2].Instance.InstanceID)
}

func TestDecodeBatchRejectsGarbage(t *testing.T) {
	_, err := decodeBatch([]byte("not json"))
	assert.Error(t, err)
}

func TestControlCodecRoundTrip(t *testing.T) {
	deadline := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	data, err := encodeControl(processor.NewSkipUntil(deadline))
	require.NoError(t, err)

	cmd, err := decodeControl(data)
	require.NoError(t, err)
	assert.Equal(t, processor.KindSkipUntil, cmd.Kind)
	assert.WithinDuration(t, deadline, cmd.Deadline, time.Millisecond)
}

func TestReplyEnvelope(t *testing.T) {
	assert.NoError(t, decodeReply(encodeReply(nil)))

	err := decodeReply(encodeReply(errors.New("watermark refused")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watermark refused")

	assert.Error(t, decodeReply([]byte("not json")))
}
