package server

import "time"

// clockInterval 回合计时的推进频率（每秒一次 timeUpdated）
var clockInterval = time.Second

// Start 启动房间 goroutine（单线程推进房间状态）
func (r *Room) Start() {
	go r.run()
}

func (r *Room) run() {
	defer close(r.done)

	var clock <-chan time.Time
	if r.roundLength > 0 {
		ticker := time.NewTicker(clockInterval)
		defer ticker.Stop()
		clock = ticker.C
	}

	for {
		select {
		case cmd := <-r.cmds:
			// 核心循环：执行命令（修改状态 → 投递结果）
			start := time.Now()
			cmd()
			r.metrics.CommandSeconds.Observe(time.Since(start).Seconds())
			if r.closed {
				return
			}
		case <-clock:
			r.advanceClock(clockInterval)
		case <-r.stop:
			return
		}
	}
}

// advanceClock 推进回合计时；归零时公布排名、复活所有成员并开始新一局
func (r *Room) advanceClock(step time.Duration) {
	if r.roundLength <= 0 || len(r.members) == 0 {
		return
	}
	r.roundLeft -= step

	var out outbox
	if r.roundLeft > 0 {
		out.broadcast(timeMsg(secondsCeil(r.roundLeft)), "")
		r.flush(out)
		return
	}

	out.broadcast(roundEndedMsg(r.standings()), "")
	for _, id := range r.members {
		if r.registry.Revive(id) {
			out.unicast(id, healthMsg(MaxHealth))
		}
	}
	r.roundLeft = r.roundLength
	out.broadcast(timeMsg(secondsCeil(r.roundLeft)), "")
	r.flush(out)
	Log.Infof("round restarted: room=%s members=%d", r.ID, len(r.members))
}

func secondsCeil(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
