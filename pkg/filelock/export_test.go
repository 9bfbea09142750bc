package filelock

// TakeExpired exposes the takeover step so tests can replay an acquirer
// that judged a lock expired before someone else replaced it.
var TakeExpired = (*Manager).takeExpired
