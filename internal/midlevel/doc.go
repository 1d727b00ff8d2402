// Package midlevel drives the device's mid level stimulation mode on
// top of a session: initialize, stream waveform updates, feed the
// device watchdog between caller updates, poll channel state, and stop.
//
// Lifecycle: idle -> initialized -> streaming -> stopped. A stopped
// controller can be reinitialized.
package midlevel
