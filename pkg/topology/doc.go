/*
Package topology maps storage elements to sites, statuses and URLs.

The table is static, loaded from the storage_elements section of the
configuration. Channel site keys are derived from full site names by
types.ChannelSite, so an SE at "LCG.CERN.ch" is reachable over channels
whose site is "CERN".
*/
package topology
