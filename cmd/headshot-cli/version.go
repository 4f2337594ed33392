package main

var commitHash = "dev"
