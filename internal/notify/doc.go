// Package notify carries recording change events from the writer to any
// number of observers, either in-process or across processes over Redis
// pub/sub.
package notify
