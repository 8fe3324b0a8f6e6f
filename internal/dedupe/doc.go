// Package dedupe provides a bounded window of recently seen transcript
// utterances so that a voice session does not store the same (role, content)
// pair twice when the remote channel re-delivers it.
//
// The window is bounded both by age and by entry count; the oldest key is
// evicted first. Keys can be forgotten again when the write they guarded
// fails, so a retry is not mistaken for a duplicate.
package dedupe
