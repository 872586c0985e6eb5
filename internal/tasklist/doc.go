// Package tasklist turns operator input into crawl tasks.
//
// URLs come from command-line arguments and/or a list file with one URL per
// line ('#' comments and blank lines are ignored). Each URL becomes one task
// whose body is written to doc_NNN.txt in the output directory, numbered
// from 1 in input order.
package tasklist
