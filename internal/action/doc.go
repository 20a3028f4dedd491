// Package action implements the side effects a slot can trigger: launching
// a program, playing an audio file and raising a desktop notification.
//
// Every action returns as soon as the side effect has been started. None of
// them waits for the launched process or the played sound to finish.
package action
