// Package remote forwards command batches to a processor running in another
// process. Work batches travel fire-and-forget on one subject; management
// commands go request/reply on a control subject that the worker polls before
// touching queued work, so a skip-until can flush the backlog ahead of it.
package remote

import (
	"encoding/json"
	"fmt"

	"github.com/occopus/infra-processor/internal/processor"
)

// workBatch is the wire form of one pushed batch.
type workBatch struct {
	Commands []processor.Command `json:"commands"`
}

// controlReply is the request/reply envelope for control commands.
type controlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func encodeBatch(cmds []processor.Command) ([]byte, error) {
	data, err := json.Marshal(workBatch{Commands: cmds})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return data, nil
}

func decodeBatch(data []byte) ([]processor.Command, error) {
	var batch workBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return batch.Commands, nil
}

func encodeControl(cmd processor.Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode control command: %w", err)
	}
	return data, nil
}

func decodeControl(data []byte) (processor.Command, error) {
	var cmd processor.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return processor.Command{}, fmt.Errorf("failed to decode control command: %w", err)
	}
	return cmd, nil
}

func encodeReply(err error) []byte {
	reply := controlReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	data, _ := json.Marshal(reply)
	return data
}

func decodeReply(data []byte) error {
	var reply controlReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("failed to decode control reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("control command rejected: %s", reply.Error)
	}
	return nil
}
