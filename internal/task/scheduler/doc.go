// Package scheduler registers cron, interval, and one-shot triggers and
// enqueues their jobs into the task engine. It never runs jobs itself.
package scheduler
