// Package kernels embeds the built-in WGSL compute programs of the flocking pipeline.
// Programs are stored as <name>.wgsl where name is both the kernel name and the entry point.
// Files under include/ are shared helper snippets pulled in through @oxy:include.
package kernels

import "embed"

// Sources holds every built-in program, keyed by "<name>.wgsl".
//
//go:embed *.wgsl
var Sources embed.FS

// GridFunctionsSource holds the shared grid hashing helpers.
//
//go:embed include/grid_functions.wgsl
var GridFunctionsSource string

// FlockRulesSource holds the shared steering and integration helpers of the update programs.
//
//go:embed include/flock_rules.wgsl
var FlockRulesSource string

// Built-in kernel names.
const (
	MemSet                 = "memSet"
	GetGridHash            = "getGridHash"
	BitonicSortLocal       = "bitonicSortLocal"
	BitonicSortLocal1      = "bitonicSortLocal1"
	BitonicMergeGlobal     = "bitonicMergeGlobal"
	BitonicMergeLocal      = "bitonicMergeLocal"
	FindGridEdgeAndReorder = "findGridEdgeAndReorder"
	ReorderAttributes      = "reorderAttributes"
	ReversePermutation     = "reversePermutation"
	SimulateSimple         = "simulateSimple"
	SimulateGrid           = "simulateGrid"
	SimulateGoal           = "simulateGoal"
	SimulateObstacle       = "simulateObstacle"
)

// Names lists every built-in program in pipeline order.
var Names = []string{
	MemSet,
	GetGridHash,
	BitonicSortLocal,
	BitonicSortLocal1,
	BitonicMergeGlobal,
	BitonicMergeLocal,
	FindGridEdgeAndReorder,
	ReorderAttributes,
	ReversePermutation,
	SimulateSimple,
	SimulateGrid,
	SimulateGoal,
	SimulateObstacle,
}
