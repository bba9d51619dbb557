/*

Process of compilation

Program Text ->
	parse ->
Instructions (ir) ->
	df.Analyze ->
Dependency Table (df) ->
	sched.List ->
Schedule ->
	regalloc.Fresh ->
Loop Table (loop)

Dependency Table (df) ->
	sched.Modulo ->
Pipelined Schedule (stages, II) ->
	regalloc.Rotating ->
Rotating Register Table ->
	prep.Loop ->
Kernel Table (loop.pip) ->
	format ->
JSON bundles

*/
package compiler
