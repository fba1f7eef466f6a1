/*
Package health probes storage element endpoints and bans the SEs that stop
answering.

Scheduling only routes files through SEs whose read or write status is
usable. Static configuration cannot notice a door going down, so the
Monitor probes each configured endpoint and flips the SE to Banned in the
topology after Config.Retries consecutive failures. The first successful
probe restores the statuses the ban replaced, so an SE configured as Bad
comes back as Bad.

# Probes

ForEndpoint picks the probe from the endpoint scheme:

	http, https        HEAD on the endpoint URL
	dav, davs          HEAD on the http/https form of the URL
	srm                TCP connect, default port 8443
	gsiftp             TCP connect, default port 2811
	root, xroot        TCP connect, default port 1094

An HTTP door answering 401 or 403 is up; it merely wants credentials.

# Usage

	var targets []health.Target
	for se, endpoint := range endpoints {
		checker, err := health.ForEndpoint(endpoint, cfg.Timeout)
		if err != nil {
			return err
		}
		targets = append(targets, health.Target{SE: se, Checker: checker})
	}

	monitor := health.NewMonitor(topo, cfg, targets)
	monitor.Start()
	defer monitor.Stop()

The replicator_se_probe_healthy gauge reports 0 for every banned SE.
*/
package health
