// Package watch triggers plugin rediscovery when plugin directories change,
// through filesystem notifications (Watcher) or a cron schedule (Scheduler).
package watch
