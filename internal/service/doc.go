// Package service hosts the call recorder: it turns call-state signals into
// recordings and keeps the retention sweeper in step with the settings.
package service
