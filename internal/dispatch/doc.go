// Package dispatch turns a due slot into side effects.
//
// Fire enqueues one engine task per slot so the poll loop never waits on
// an action. Inside that task the slot's commands run in order, one at a
// time, and a failing command never stops the ones after it.
package dispatch
