package tracking

import (
	"time"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/types"
	"github.com/google/uuid"
)

// UnknownModel 全部后端失败时终止事件使用的模型名
const UnknownModel = "unknown"

// Event 一次尝试的追踪记录。
type Event struct {
	TrackID   string        `json:"track_id"`
	Backend   string        `json:"backend"`
	Model     string        `json:"model"`
	Operation llm.Operation `json:"operation"`
	Caller    string        `json:"caller,omitempty"`
	Usage     types.Usage   `json:"usage"`
	StartedAt time.Time     `json:"started_at"`
	ElapsedMs int64         `json:"elapsed_ms"`
	// RetryCount 本次尝试在该后端上的重试序号，首次尝试为 0
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
	// Terminal 标记全部后端失败后的终止事件
	Terminal bool `json:"terminal,omitempty"`
}

// Failed reports whether the event records a failed attempt.
func (e Event) Failed() bool {
	return e.Error != ""
}

// NewTrackID 生成一次顶层调用的追踪 ID
func NewTrackID() string {
	return uuid.NewString()
}

// SetError 填充错误信息。
func (e *Event) SetError(err error) {
	if err == nil {
		return
	}
	e.Error = err.Error()
	e.ErrorCode = types.GetErrorCode(err)
}
