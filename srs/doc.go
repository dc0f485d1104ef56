// Package srs implements SM-2 spaced repetition scheduling for
// conjugation drills.
//
// The package is pure: the Engine computes the next card state from the
// previous one and a quality grade, and never touches storage. Grades
// are derived from raw answer signals (correctness, response time, hint
// usage) by Thresholds.Derive.
//
// Basic usage:
//
//	e := srs.NewEngine(srs.EngineConfig{})
//
//	q, err := srs.DefaultThresholds().Derive(true, 4*time.Second, false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	card, err := e.Compute(nil, q, time.Now()) // nil: first review
package srs
