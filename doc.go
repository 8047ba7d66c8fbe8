// # Go Client Package for the DeepGetty Realtime Coaching Session
//
// This repository provides a Go package for building applications that run real-time, two-way coaching sessions with a multimodal AI service. It streams microphone audio and downsampled camera frames upstream, plays streamed synthesized audio back with gapless scheduling and barge-in interruption, and manages the full capture/transport/playback lifecycle for one session.
package livecoach
