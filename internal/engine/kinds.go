package engine

// Node kinds.
const (
	KindGroup         = "group"
	KindCallback      = "callback"
	KindShell         = "sh"
	KindSetState      = "set-state"
	KindReadState     = "read-state"
	KindRegex         = "regex"
	KindJSON          = "json"
	KindEcho          = "echo"
	KindLog           = "log"
	KindSleep         = "sleep"
	KindSignal        = "signal"
	KindSetSignal     = "set-signal"
	KindWaitFor       = "wait-for"
	KindForEach       = "for-each"
	KindRepeatUntil   = "repeat-until"
	KindScript        = "script"
	KindUpload        = "upload"
	KindDownload      = "download"
	KindQueueDownload = "queue-download"
	KindQueueDelete   = "queue-delete"
	KindCtrlC         = "ctrl-c"
	KindReconnect     = "reconnect"
	KindAbort         = "abort"
)

func init() {
	Register(KindGroup, func(string, Flags) (Action, error) { return &groupAction{}, nil })
	Register(KindShell, newShAction)
	Register(KindSetState, newSetStateAction)
	Register(KindReadState, newReadStateAction)
	Register(KindRegex, newRegexAction)
	Register(KindJSON, newJSONAction)
	Register(KindEcho, newEchoAction(false))
	Register(KindLog, newEchoAction(true))
	Register(KindSleep, newSleepAction)
	Register(KindSignal, newSignalAction)
	Register(KindSetSignal, newSetSignalAction)
	Register(KindWaitFor, newWaitForAction)
	Register(KindForEach, newForEachAction)
	Register(KindRepeatUntil, newRepeatUntilAction)
	Register(KindScript, newScriptAction)
	Register(KindUpload, newUploadAction)
	Register(KindDownload, newDownloadAction)
	Register(KindQueueDownload, newQueueDownloadAction)
	Register(KindQueueDelete, newQueueDeleteAction)
	Register(KindCtrlC, func(string, Flags) (Action, error) { return &ctrlCAction{}, nil })
	Register(KindReconnect, newReconnectAction)
	Register(KindAbort, newAbortAction)
}
