// Package continuity keeps a user's tabs in agreement about whether their
// session is alive.
//
// One session, many tabs: activity in any tab counts for all of them, a
// warning shows in all of them, and when the idle deadline passes the
// session ends once, everywhere. Events travel over a broadcast (Redis
// pub/sub in production) but the broadcast is advisory; the authority is a
// periodic sweep comparing wall-clock timestamps, which is why a machine
// waking from sleep expires immediately instead of restarting its timer.
package continuity
