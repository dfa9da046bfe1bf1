package metrics

import "time"

// Nop は何も記録しないレコーダー。メトリクスを無効にする場合やテストで使用する。
type Nop struct{}

func (Nop) RecordHabitCreated()                              {}
func (Nop) RecordHabitDeleted(int)                           {}
func (Nop) RecordCompletion()                                {}
func (Nop) RecordCompletionRejected(string)                  {}
func (Nop) RecordRequest(string, string, int, time.Duration) {}
func (Nop) RecordRateLimited(string)                         {}
func (Nop) RecordFetchSuccess(string)                        {}
func (Nop) RecordFetchFailure(string, string)                {}
func (Nop) RecordParseFailure(string)                        {}
func (Nop) RecordFetchHTTPStatus(int)                        {}
func (Nop) RecordFetchLatency(time.Duration)                 {}
func (Nop) RecordPostsUpserted(int)                          {}

var (
	_ HabitRecorder = Nop{}
	_ FetchRecorder = Nop{}
	_ HTTPRecorder  = Nop{}
)
