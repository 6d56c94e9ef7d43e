// Package pipeline drives an image build.
//
// Plan loads the manifest and resolves every input without touching the
// output directory. Build then takes the output lock, stages sections in
// parallel and passes them through the policy engine. The sign, hash and
// assemble steps are barriers: each one starts only after every section
// has reached the stage it reads from.
package pipeline
