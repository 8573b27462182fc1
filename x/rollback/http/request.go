package http

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/compose-network/rollback-manager/x/rollback"
)

// batchRequest is the JSON shape shared by propose/queue/cancel/execute.
// Targets are hex addresses, values decimal wei strings, payloads 0x-prefixed
// hex calldata.
type batchRequest struct {
	Targets     []string `json:"targets"`
	Values      []string `json:"values"`
	Payloads    []string `json:"payloads"`
	Description string   `json:"description"`
}

func (r batchRequest) toBatch() (rollback.Batch, error) {
	batch := rollback.Batch{
		Targets:     make([]common.Address, 0, len(r.Targets)),
		Values:      make([]*big.Int, 0, len(r.Values)),
		Payloads:    make([][]byte, 0, len(r.Payloads)),
		Description: r.Description,
	}

	for i, t := range r.Targets {
		if !common.IsHexAddress(t) {
			return rollback.Batch{}, fmt.Errorf("targets[%d]: invalid address %q", i, t)
		}
		batch.Targets = append(batch.Targets, common.HexToAddress(t))
	}

	for i, v := range r.Values {
		if v == "" {
			batch.Values = append(batch.Values, new(big.Int))
			continue
		}
		val, ok := new(big.Int).SetString(v, 10)
		if !ok || val.Sign() < 0 {
			return rollback.Batch{}, fmt.Errorf("values[%d]: invalid wei amount %q", i, v)
		}
		batch.Values = append(batch.Values, val)
	}

	for i, p := range r.Payloads {
		if p == "" || p == "0x" {
			batch.Payloads = append(batch.Payloads, []byte{})
			continue
		}
		data, err := hexutil.Decode(p)
		if err != nil {
			return rollback.Batch{}, fmt.Errorf("payloads[%d]: %w", i, err)
		}
		batch.Payloads = append(batch.Payloads, data)
	}

	return batch, nil
}

type rollbackResponse struct {
	ID string `json:"id"`
}

type executeResponse struct {
	ID         string `json:"id"`
	ReturnData string `json:"return_data,omitempty"`
}

type recordResponse struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	QueueExpiresAt string `json:"queue_expires_at,omitempty"`
	ExecutableAt   string `json:"executable_at,omitempty"`
	Executed       bool   `json:"executed"`
	Canceled       bool   `json:"canceled"`
}

func newRecordResponse(id common.Hash, rec rollback.Record, st rollback.State) recordResponse {
	resp := recordResponse{
		ID:       id.Hex(),
		State:    st.String(),
		Executed: rec.Executed,
		Canceled: rec.Canceled,
	}
	if !rec.QueueExpiresAt.IsZero() {
		resp.QueueExpiresAt = rec.QueueExpiresAt.UTC().Format(time.RFC3339)
	}
	if !rec.ExecutableAt.IsZero() {
		resp.ExecutableAt = rec.ExecutableAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type rolesResponse struct {
	Admin                string `json:"admin"`
	Guardian             string `json:"guardian"`
	QueueableDuration    string `json:"queueable_duration"`
	MinQueueableDuration string `json:"min_queueable_duration"`
}

type setAddressRequest struct {
	Address string `json:"address"`
}

type setDurationRequest struct {
	Duration string `json:"duration"`
}
