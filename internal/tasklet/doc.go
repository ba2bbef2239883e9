// Package tasklet provides the single-consumer event loop that owns the
// border router state.
//
// Every state mutation in meshgate runs as a task on one Loop goroutine.
// MQTT callbacks, timer expirations and periodic reports never touch router
// state directly; they Post a task and the loop runs tasks one at a time in
// arrival order.
//
// Timers are created through a Scheduler. The clock backed scheduler fires
// on a clock goroutine but delivers the callback as a loop task, and a
// stopped timer never runs its callback even if it had already expired and
// was waiting in the queue. A Slot owns at most one pending timer, so
// rescheduling through a Slot can never leave two live timers.
//
// # Usage
//
//	loop := tasklet.New(tasklet.DefaultQueueSize)
//	loop.Start(ctx)
//	defer loop.Stop()
//
//	sched := tasklet.NewClockScheduler(clock.New(), loop)
//	var shutdown tasklet.Slot
//	shutdown.Schedule(sched, 2*time.Minute, func() { ... })
package tasklet
