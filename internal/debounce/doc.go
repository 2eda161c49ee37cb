// Package debounce coalesces bursts of messages from one conversant into a
// single request.
//
// Each subject key owns at most one pending buffer. The first message fixes
// the burst's origin (thread key and reply target) and arms a timer; every
// further message appends its text and restarts the timer. When the timer
// fires, the buffer is removed and the latest settle callback receives the
// space-joined text.
//
// Timer callbacks carry the generation they were armed for. A timer whose
// generation no longer matches the live buffer does nothing, which closes the
// window where a message appended under the lock could race a firing timer.
package debounce
