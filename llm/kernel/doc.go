// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

// Package kernel provides geometry kernel clients that execute a CAD script
// into a triangle soup: HTTPKernel for a remote geometry service returning
// binary STL, and OpenSCADKernel for a local openscad binary.
//
// Failures carry stage convert. A kernel rejection is CONVERSION_FAILED with
// the kernel's diagnostic; an expired deadline is TIMEOUT.
package kernel
