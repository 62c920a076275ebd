package cbmgmtx

import (
	"context"

	"github.com/couchbaselabs/cbclusterboot/cbhttpx"
)

type TaskJson struct {
	TaskId       string `json:"taskId,omitempty"`
	Type         string `json:"type"`
	Status       string `json:"status,omitempty"`
	Bucket       string `json:"bucket,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type ListTasksOptions struct {
}

func (h Management) ListTasks(ctx context.Context, opts *ListTasksOptions) ([]TaskJson, error) {
	resp, err := h.Execute(ctx, "GET", "/pools/default/tasks", "", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, h.DecodeCommonError(resp)
	}

	return cbhttpx.ReadAsJsonAndClose[[]TaskJson](resp.Body)
}
