/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package jobqueue

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// RecurringSubmitter enqueues a fixed payload on a cron schedule. The CLI
// does not expose it (`engine enqueue` has no schedule flag); a caller
// constructs it directly. Grounded on legator's
// jobs.Scheduler/isScheduleDue — simplified from "poll jobs table every
// 30s and compute due-ness per job" to "let robfig/cron own the clock"
// since Swarm1 has no probe-fleet fan-out to coordinate against.
type RecurringSubmitter struct {
	Store *Store
	cron  *cron.Cron
	log   logr.Logger
}

// NewRecurringSubmitter constructs a submitter backed by store.
func NewRecurringSubmitter(store *Store, log logr.Logger) *RecurringSubmitter {
	return &RecurringSubmitter{
		Store: store,
		cron:  cron.New(),
		log:   log,
	}
}

// AddSchedule registers payload to be enqueued whenever cronExpr next
// fires (standard five-field cron syntax). Returns the entry id, usable
// with RemoveSchedule.
func (r *RecurringSubmitter) AddSchedule(cronExpr string, payload Payload) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(cronExpr, func() {
		if _, err := r.Store.Enqueue(Job{Payload: payload, Priority: payload.Priority}); err != nil {
			r.log.Error(err, "recurring enqueue failed", "tenant", payload.Tenant, "graph_file", payload.GraphFile)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("parse cron schedule %q: %w", cronExpr, err)
	}
	return id, nil
}

// RemoveSchedule cancels a previously registered recurring submission.
func (r *RecurringSubmitter) RemoveSchedule(id cron.EntryID) {
	r.cron.Remove(id)
}

// Start begins running registered schedules in the background.
func (r *RecurringSubmitter) Start() { r.cron.Start() }

// Stop halts the scheduler and waits for any running job to complete.
func (r *RecurringSubmitter) Stop() { r.cron.Stop() }
