// Package flow walks a scripted onboarding decision tree. Scripts are TOML
// documents of steps with either fixed-choice options or free-text input;
// walking one produces the ordered question/answer log a session draft
// carries into the live chat handshake.
package flow
