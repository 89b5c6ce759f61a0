package control

// Status is what `snapkey status --json` prints.
type Status struct {
	Running   bool              `json:"running"`
	PID       int               `json:"pid,omitempty"`
	Listening bool              `json:"listening"`
	Addr      string            `json:"addr"`
	Config    string            `json:"config"`
	LogFile   string            `json:"log_file"`
	Bindings  map[string]string `json:"bindings"`
}
