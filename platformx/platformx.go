// Package platformx contains platform specific code
package platformx

// WarnIfNotFullySupported will emit a warning if the platform is not
// fully supported by github.com/m-lab/echo-probe. Only Linux gives the
// probe kernel TCP instrumentation and socket-cookie UUIDs.
func WarnIfNotFullySupported() {
	maybeEmitWarning()
}
