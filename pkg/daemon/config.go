package daemon

// Options tunes how the daemon integrates with its supervisor.
type Options struct {
	// SystemdMode enables sd_notify, the watchdog and socket activation.
	SystemdMode bool
	// PIDFile, when set, receives the daemon's pid while it runs.
	PIDFile string
}

// Configure applies opts. It must be called before Run.
func (d *Daemon) Configure(opts Options) {
	d.systemdMode = opts.SystemdMode
	d.pidFile = opts.PIDFile
}
