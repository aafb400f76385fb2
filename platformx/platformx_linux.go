package platformx

func maybeEmitWarning() {
	// Linux is the fully supported platform.
}
