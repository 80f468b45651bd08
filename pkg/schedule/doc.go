// Package schedule is the thin scheduling layer the rest of the portal
// depends on: delayed one-shot tasks addressed by registered name, and
// recurring cron jobs for the maintenance sweeps. Nothing here is
// durable; durable retry intent lives on the rows the tasks act on, so a
// process restart loses only timers that the recovery sweeps re-derive.
package schedule
