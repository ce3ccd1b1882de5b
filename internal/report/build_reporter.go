// Package report delivers build and match outcomes to the coordinator's HTTP
// API.
package report

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/thuasta/saiblo-worker/internal/build"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// Coordinator-side status strings for compile reports.
const (
	compileStatusOK     = "编译成功"
	compileStatusFailed = "编译失败"
)

// BuildReporter reports build results via PUT /judger/codes/{code_id}/.
type BuildReporter struct {
	http *resty.Client
	log  *logger.Logger
}

// NewBuildReporter creates a BuildReporter using the shared HTTP client.
func NewBuildReporter(http *resty.Client, log *logger.Logger) *BuildReporter {
	return &BuildReporter{http: http, log: log}
}

// Report sends the build result to the coordinator.
func (r *BuildReporter) Report(ctx context.Context, result build.Result) error {
	r.log.Debug("reporting build result", "code_id", result.CodeID)

	status := compileStatusFailed
	if result.OK() {
		status = compileStatusOK
	}

	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"compile_status":  status,
			"compile_message": result.Message,
		}).
		Put(fmt.Sprintf("/judger/codes/%s/", result.CodeID))
	if err != nil {
		return fmt.Errorf("report build result for %s: %w", result.CodeID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("report build result for %s: unexpected status %s", result.CodeID, resp.Status())
	}

	r.log.Info("build result reported", "code_id", result.CodeID)
	return nil
}
