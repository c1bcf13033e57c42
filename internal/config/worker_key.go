package config

type WorkerKeyStruct struct {
	PersistDraftsQueue string
	ScoreAttemptsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistDraftsQueue: "persist_drafts_queue",
	ScoreAttemptsQueue: "score_attempts_queue",
}
