// Package core provides the document-to-ledger automation engine.
//
// This package holds all pipeline logic independent of any transport. It can
// be driven by the HTTP API, the rule scheduler, folder watchers, or tests
// without modification.
//
// # Architecture
//
// The package is organized around a few key concepts:
//
//   - Document Types: Registered via the registry, each type carries the
//     keywords, filename patterns and field aliases used to recognise it.
//   - Engine: The main entry point (workflows, stats, rules, manual review).
//   - Reconciler: The recurring background pass that retries unsynced
//     vouchers and resolves conflicts between them.
//   - EventBus: The observer registry lifecycle events are published on.
//
// # Pipeline
//
// Every document goes through the same steps:
//
//  1. [Classifier] assigns a category with a confidence
//  2. [FieldMapper] runs one [Extractor] per canonical field
//  3. [Validator] scores the candidate and itemizes issues
//  4. [ToLedgerVoucher] builds the voucher
//  5. The voucher is sent through the sync client or queued
//
// Documents are processed in batches of [Options.BatchSize]. Within a batch
// they run concurrently; batch N+1 never starts before batch N completes.
//
// # Document Types
//
// Types are registered at init time using [Register]:
//
//	core.Register(core.DocumentType{
//	    Key:         "invoice",
//	    Label:       "Invoice",
//	    VoucherType: "Sales",
//	    Keywords:    []string{"invoice", "bill to"},
//	    Aliases: map[model.FieldName][]string{
//	        model.FieldReference: {"invoice_number", "invoice no"},
//	    },
//	})
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix for support reference:
//
//   - WF001-WF004: Workflow errors (not initialized, busy, not found)
//   - SRC001-SRC003: Source errors (unknown source, unreadable file)
//   - SYNC001-SYNC004: Destination and queue errors
//   - VAL001-VAL003: Request validation errors
//   - RULE001-RULE002: Automation rule errors
package core
