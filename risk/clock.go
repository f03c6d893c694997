package risk

import "time"

// Clock 抽象时间便于测试冷却计时器。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
