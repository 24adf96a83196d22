// Package quickjs implements the robot Runtime on top of the QuickJS
// JavaScript engine.
//
// A robot named "billing.export" lives in <workDir>/billing/export.js. Its
// source is the body of a function called with the run parameters as args:
//
//	var total = 0;
//	for (var i = 0; i < args.items.length; i++) total += args.items[i];
//	return { total: total };
//
// A run that is interrupted leaves the VM in an unknown state; the robot is
// recompiled into a fresh VM before the next run.
package quickjs
