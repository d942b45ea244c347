package providers

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

var (
	// ErrStopSSE 由回调返回以正常结束读取
	ErrStopSSE = errors.New("stop sse")
	// ErrSSETruncated 连接在终止标记之前结束
	ErrSSETruncated = errors.New("sse stream ended before terminator")
)

// ScanSSE 逐条读取 text/event-stream，对每个 data 行调用 fn。
// event 为最近一次 "event:" 行的值。遇到 "data: [DONE]" 或 fn 返回
// ErrStopSSE 时返回 nil；在此之前读到 EOF 返回 ErrSSETruncated；
// 其他错误原样返回。
func ScanSSE(body io.Reader, fn func(event, data string) error) error {
	reader := bufio.NewReader(body)
	event := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return ErrSSETruncated
			}
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			if ferr := fn(event, data); ferr != nil {
				if errors.Is(ferr, ErrStopSSE) {
					return nil
				}
				return ferr
			}
		}

		if err != nil {
			return ErrSSETruncated
		}
	}
}
