package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"proxyharvest/proxypool/events"
	"proxyharvest/proxypool/model"
)

// renderRun 消费验证或位置查询的事件流：进度画在 progress 上，可用代理逐行打到 out。
// 日志事件已由 zerolog 输出，这里不再重复。
func renderRun(ch <-chan events.Event, out, progress io.Writer, description string) events.Summary {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)

	var summary events.Summary
	for ev := range ch {
		switch ev.Type {
		case events.TypeProgress:
			_ = bar.Set(ev.Progress)
		case events.TypeResult:
			if ev.Result != nil && ev.Result.Functional {
				_ = bar.Clear()
				fmt.Fprintln(out, formatResult(*ev.Result))
			}
		case events.TypeDone:
			if ev.Summary != nil {
				summary = *ev.Summary
			}
		}
	}
	_ = bar.Finish()
	return summary
}

func formatResult(r model.Result) string {
	return fmt.Sprintf("%s\t%dms\t%d ok", r.Candidate, r.Latency.Milliseconds(), r.Successes)
}

func printSummary(w io.Writer, s events.Summary) {
	if s.Stopped {
		fmt.Fprintf(w, "Verification stopped: %d/%d checked, %d functional\n", s.Completed, s.Total, s.Functional)
		return
	}
	fmt.Fprintf(w, "Verification finished: %d/%d functional\n", s.Functional, s.Total)
}

// parseKindFlag 解析 --kind，allowEmpty 为真时空值表示不限定协议。
func parseKindFlag(s string, allowEmpty bool) (model.Kind, error) {
	if s == "" && allowEmpty {
		return "", nil
	}
	return model.ParseKind(s)
}
