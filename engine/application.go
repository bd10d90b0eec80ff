package engine

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width. Zero takes the size from the settings file.
	StartWidth uint32
	// Window starting height. Zero takes the size from the settings file.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name string
	// Path of the TOML settings file. A missing file means defaults.
	ConfigPath string
	// Headless runs on the software device without a window.
	Headless bool
	// MaxFrames stops the run after that many frames. Zero runs until quit.
	MaxFrames uint64
}
