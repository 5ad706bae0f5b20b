package config

type WorkerKeyStruct struct {
	PersistViolationsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue: "persist_violations_queue",
}
