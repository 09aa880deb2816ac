// Package resumestate persists per-transfer resume records keyed by content
// hash.
//
// Two implementations of Repository are provided:
//
//   - SQLiteRepository stores a resume_states row plus one resume_chunks row
//     per uploaded chunk and writes both inside a single transaction.
//   - FileRepository stores one JSON document per hash, written to a temp
//     file and renamed over the target.
//
// In both cases a Load never observes a partially written record.
//
//	repo, db, err := resumestate.OpenSQLite(ctx, filepath.Join(stateDir, "state.db"))
//	rec, _ := repo.Load(ctx, hash)   // nil, nil when absent
//	_ = repo.Save(ctx, rec)
package resumestate
